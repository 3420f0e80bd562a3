// Package sink implements append-only destinations for harvested records
// and the fan-out that feeds all of them in one order.
package sink
