package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	_, _ = parser.AddCommand("server", "Run the archiving server", `
Run the continuous archiving server: the scheduler admits due sites each
tick, captures them under the configured concurrency budget, and generates
diffs for detected changes, until signaled to exit (via SIGINT or SIGTERM).
`, &cmdServe{})

	_, _ = parser.AddCommand("crawl", "Capture a single site", `
Capture one site by domain and run change detection against its previous
snapshot, then exit.
`, &cmdCrawl{})

	_, _ = parser.AddCommand("diff", "Diff two snapshots of a site", `
Generate (or fetch, if it already exists) the diff between two snapshots
of a site.
`, &cmdDiff{})

	_, _ = parser.AddCommand("import", "Import monitored domains", `
Import the monitored-site catalog from a CISA .gov dataset CSV, optionally
marking domains from a second CSV as high priority.
`, &cmdImport{})

	if _, err := parser.Parse(); err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			os.Stdout.WriteString(flagErr.Message)
			os.Exit(0)
		}
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
