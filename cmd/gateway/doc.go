// Command gateway runs the device trust gateway: the trusted device API, the
// signing reverse proxy, and the background monitor and cleanup tasks.
package main
