// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// so credentials need not be written to disk:
//
//	alpaca:
//	  api_key_id: ${ALPACA_API_KEY_ID}
//	  api_secret_key: ${ALPACA_API_SECRET_KEY}
//	  websocket_url: wss://stream.data.alpaca.markets/v2/iex
package config
