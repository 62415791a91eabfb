// Package config loads remoting.json and REMOTING_* environment overrides.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "address": ":8080",
//	    "path": "/remoting",
//	    "longPollTimeout": "30s",
//	    "sessionIdleTimeout": "5m",
//	    "strictMode": false
//	  },
//	  "client": {
//	    "url": "http://localhost:8080/remoting",
//	    "transport": "ws",
//	    "push": true
//	  },
//	  "log": {
//	    "level": "debug",
//	    "format": "json"
//	  }
//	}
//
// Environment variables win over the file, for example
// REMOTING_ADDRESS=:9090 or REMOTING_LOG_LEVEL=warn.
//
// # Usage
//
//	cfg, err := config.Resolve("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := server.New(cfg.ToServerConfig(), server.WithLogger(cfg.NewLogger(os.Stderr)))
package config
