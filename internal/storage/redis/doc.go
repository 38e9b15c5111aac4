// Package redis keeps finished workflow results in Redis: one JSON document
// per workflow id plus a sorted-set index on end time that drives retention.
package redis
