// Package tools registers the built-in tool set: text file read/write,
// directory listing, application launch/terminate/list, and the secret
// store surface.
//
// Security gates run as dispatcher prechecks: launch_application screens
// the raw and the resolved executable against the policy evaluator,
// write_text_file refuses deny-listed system paths, and read_text_file
// enforces the 10 MiB ceiling before any bytes are read.
package tools
