// Package throttle implements per-UID I/O throttling for iohub.
//
// Time is broken up into fixed-length throttling periods (5 seconds by
// default). During each period, each UID may read or write a configured
// number of bytes. Once a UID exhausts its allocation it must wait for
// the next period, when the allocation fully renews. Unused bytes are
// never carried over between periods.
//
// To put some numbers to this: user foo (uid 1000) might be guaranteed
// 20 MB/s minimum, which is 5 * 20 * 1024 * 1024 = 104857600 bytes per
// period. UIDs without an explicit configuration entry all draw from a
// single shared fallback allocation, so fairness between unconfigured
// users emerges from them racing on the same counter.
//
// The accounting is lock-free: each UID's state is a single uint64
// holding the current period number in the low bits and the remaining
// byte budget in the high bits, updated only through compare-and-swap.
package throttle
