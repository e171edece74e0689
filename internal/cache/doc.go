// Package cache persists the device inventory and capability overrides
// between runs.
//
// The cache contract is deliberately forgiving: reads that hit missing
// or corrupt data return "absent" and the system proceeds cloud-only.
// Nothing in the core ever fails because the cache is broken — worst
// case is a slower, network-dependent startup.
package cache
