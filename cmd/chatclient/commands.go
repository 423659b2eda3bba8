package main

import "strings"

type commandKind int

const (
	cmdSay commandKind = iota
	cmdTyping
	cmdRead
	cmdStatus
	cmdHistory
	cmdQuit
	cmdUnknown
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand treats any line not starting with "/" as a message. A
// leading "//" sends a literal slash.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "//") {
		return command{kind: cmdSay, arg: line[1:]}
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSay, arg: line}
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "typing":
		return command{kind: cmdTyping, arg: arg}
	case "read":
		if arg == "" {
			return command{kind: cmdUnknown, arg: line}
		}
		return command{kind: cmdRead, arg: arg}
	case "status":
		return command{kind: cmdStatus}
	case "history":
		return command{kind: cmdHistory}
	case "quit", "exit":
		return command{kind: cmdQuit}
	}
	return command{kind: cmdUnknown, arg: line}
}

// typingFlag reads "/typing", "/typing on" and "/typing off".
func typingFlag(arg string) bool {
	switch strings.ToLower(arg) {
	case "off", "stop", "false", "0":
		return false
	}
	return true
}
