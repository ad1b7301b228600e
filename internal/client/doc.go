// Package client runs many load sessions at once.
//
// A Client starts NumClients sessions on a worker pool with exactly that
// many workers, so every session runs concurrently on its own connection.
// Run returns once every session has completed its iterations, failed, or
// been cancelled; failures are combined with multierr.
//
// # Basic Usage
//
//	config := client.DefaultConfig()
//	config.NumClients = 8
//	config.Session.Addr = "localhost:8888"
//
//	c := client.New(config, os.Stdout)
//	if err := c.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(c.Metrics().Snapshot().Report())
//
// # Configuration
//
// The Config struct allows tuning:
//   - NumClients: number of concurrent sessions (default 1)
//   - Session.Iterations: commands per session (default 10000)
//   - Session.GetRatio: probability of a get command (default 0.99)
//   - Session.Framer: raw single-read framing or length-prefixed framing
//   - Session.Connector: reconnect interval and optional attempt limit
package client
