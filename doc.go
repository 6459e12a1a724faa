package libtorrent

// Package libtorrent implements a BitTorrent tracker coordination core: the
// Connection Manager (connmgr), the DNS resolver (dns), the ordered tracker
// list and its selection/dispatch policy (trackerlist), and the three
// concrete tracker variants (tracker/http, tracker/udp, tracker/dht).
// Session is the entry point gluing them together under one global lock.
