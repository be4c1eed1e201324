// Package watchdog expires lapsed claim leases and offlines silent workers.
package watchdog
