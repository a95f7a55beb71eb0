// Command rigging composes Kubernetes manifests from reusable profiles.
package main

import "github.com/cameronsjo/rigging/internal/cmd"

func main() {
	cmd.Execute()
}
