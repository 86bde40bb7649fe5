// The seo-audit binary serves the audit API and runs one-shot audits and crawls.
package main

import "github.com/JakeFAU/seo-audit-worker/cmd"

func main() {
	cmd.Execute()
}
