// Command sealctl generates authority keys and seals or opens incident
// reports offline, producing exactly what clients anchor and responders read.
package main

import "os"

func main() {
	os.Exit(run(os.Args))
}
