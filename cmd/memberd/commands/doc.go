// Package commands defines the memberd CLI.
//
// Commands
//
//   - run       Start a membership agent
//   - members   List the group as seen by a running agent
//   - ring      Resolve key placement against a running agent
//   - version   Print version information
package commands
