// Package cache stores rendered speech so repeated lines skip the backend.
// It layers an in-memory LRU (L1) over a zstd-compressed disk tier or a
// shared Redis tier (L2). Entries expire after a configurable TTL.
package cache
