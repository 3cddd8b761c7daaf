// Command relocator moves projects from a source deployment into a
// workspace of the destination deployment, honouring the workspace's data
// region.
package main

import (
	goflag "flag"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

func main() {
	// glog registers -v, -logtostderr and friends on the Go flag set.
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	_ = goflag.Set("logtostderr", "true")

	if err := rootCmd.Execute(); err != nil {
		glog.Errorf("relocator: %v", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}
