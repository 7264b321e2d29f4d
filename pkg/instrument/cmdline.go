package instrument

import "strings"

// JoinCommandLine renders argv as a single command line using the MS C runtime
// quoting rules, which is the format trace consumers already parse:
//
//	[]string{"/bin/bash", "-c", "sleep 1"} -> /bin/bash -c "sleep 1"
//
// Arguments containing a space or tab, and empty arguments, are double quoted.
// A double quote is escaped with a backslash and the backslashes in front of it
// are doubled. Backslashes are literal otherwise, except before a closing quote.
func JoinCommandLine(argv []string) string {
	var b strings.Builder

	for i, arg := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}

		quote := arg == "" || strings.ContainsAny(arg, " \t")
		if quote {
			b.WriteByte('"')
		}

		backslashes := 0
		for _, c := range arg {
			switch c {
			case '\\':
				backslashes++
			case '"':
				b.WriteString(strings.Repeat(`\`, backslashes*2))
				backslashes = 0
				b.WriteString(`\"`)
			default:
				b.WriteString(strings.Repeat(`\`, backslashes))
				backslashes = 0
				b.WriteRune(c)
			}
		}

		b.WriteString(strings.Repeat(`\`, backslashes))
		if quote {
			b.WriteString(strings.Repeat(`\`, backslashes))
			b.WriteByte('"')
		}
	}

	return b.String()
}
