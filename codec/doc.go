// Package codec converts between the engine's wire buffers and Go values.
//
// Data values travel little-endian; a small set of legacy aggregate counters in
// database-info replies travel big-endian, so both byte orders are provided.
// Fixed-point NUMERIC/DECIMAL values are represented as apd decimals, dates as
// day counts from 1858-11-17 and times of day as ten-thousandths of a second
// since midnight. Text is transliterated with golang.org/x/text encodings keyed
// by the engine's character-set ids.
package codec
