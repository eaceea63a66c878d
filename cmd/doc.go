// Package cmd defines and implements the CLI commands for the dockling executable.
//
// Architecture overview:
//   - convert: collects the input files, starts one run on the controller and renders its events in the
//     terminal (colored log lines plus a progress bar). The first Ctrl+C asks the run to stop after the file in
//     flight; a second one cancels the engine call.
//   - serve: exposes the HTTP API of internal/api; runs are started and stopped over REST, their live state is
//     served from the status sink and finished runs from the history store (memory or Postgres).
//   - config: show prints the effective settings with secrets masked, validate reports every problem at once and
//     init writes a default dotenv file.
//
// Configuration comes from defaults, an optional config file, the dotenv file and the process environment, in
// increasing order of precedence. Legacy flat names such as OCR_ENGINE keep working next to DOCKLING_* keys.
package cmd
