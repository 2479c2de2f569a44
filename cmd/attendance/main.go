// Package main is the entry point for the attendance service and CLI.
//
//	@title			Attendance API
//	@version		1.0
//	@description	Assembly attendance switch: REST control and the realtime channel it broadcasts on.
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8082
//	@BasePath	/
//	@schemes	http
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				ADMIN bearer token, e.g. "Bearer eyJ..."
//
//	@tag.name			health
//	@tag.description	Health check endpoints
//	@tag.name			attendance
//	@tag.description	Attendance switch, change log and check-in QR code
package main

import (
	"fmt"
	"os"

	"github.com/abyssinia-assembly/attendance/cmd/attendance/cmd"

	_ "github.com/abyssinia-assembly/attendance/api/swagger" // swagger docs
)

// Version information (set by ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, BuildTime, GitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
