// ABOUTME: Build and product identification
// ABOUTME: Version is overridden at link time with -ldflags "-X"
package version

import "fmt"

var (
	// Version is the release version, "dev" for local builds
	Version = "dev"
	// Product is the product name advertised to peers
	Product = "audioc"
	// Manufacturer is shown alongside the product name
	Manufacturer = "Resonate"
)

// String returns the product and version for logs and banners
func String() string {
	return fmt.Sprintf("%s %s", Product, Version)
}
