// lockwatch tracks container processes and enforces per-container policy
// levels on syslog, mount and open.
package main

import "github.com/ppiankov/lockwatch/internal/cli"

func main() {
	cli.Execute()
}
