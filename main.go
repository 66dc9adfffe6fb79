package main

import "github.com/zpoken/zkv-attestation-relay/cmd"

func main() {
	cmd.Execute()
}
