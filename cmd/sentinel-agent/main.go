// Command sentinel-agent is the endpoint protection agent.
package main

import "github.com/Sentinel-Gate/sentinel-agent/cmd/sentinel-agent/cmd"

func main() {
	cmd.Execute()
}
