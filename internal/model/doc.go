// Package model defines the market data types shared across the stream client.
//
// Payload types mirror the venue's real-time data API v2 frames. Every inbound
// frame carries a "T" discriminator:
//   - "t": trade
//   - "q": quote
//   - "subscription": current server-side subscription state
//   - "success" / "error": control messages (authentication, protocol errors)
//
// Field names follow the single-letter wire keys ("S" symbol, "p" price, ...).
package model
