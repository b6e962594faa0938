// Package netclient builds the HTTP clients used for listing and detail
// requests. Requests can optionally be routed through a SOCKS5 proxy, and
// every request carries the configured User-Agent, cookie and headers.
package netclient
