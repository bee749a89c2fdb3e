package cmd

import (
	"fmt"
)

const banner = `
  _____
 |  __ \
 | |__) |_ _ _   ___   _____
 |  ___/ _` + "`" + ` | | | \ \ / / _ \
 | |  | (_| | |_| |\ V / (_) |
 |_|   \__,_|\__, | \_/ \___/
              __/ |
             |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Payment Routing Middleware - Version %s\x1b[0m\n\n", Version)
}
