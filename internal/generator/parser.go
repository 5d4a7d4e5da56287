// internal/generator/parser.go
package generator

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/domrelay/api/schemas"
)

// Reply grammar. Three labeled fields are recognized anywhere in the text:
//
//	Description: <rest of the line>
//	```javascript
//	<code>
//	```
//	Done: true|false
//
// Only the first match of each counts. A missing field leaves its zero value.
var (
	descriptionRegex = regexp.MustCompile(`Description:\s*(.*)`)
	// The fence needs a newline right after the tag and right before the close.
	codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60javascript\n(.*?)\n\x60\x60\x60")
	doneRegex      = regexp.MustCompile(`(?i)Done:\s*true`)
)

// ParseReply extracts a GeneratedAction from free text. It never fails.
func ParseReply(text string) schemas.GeneratedAction {
	var action schemas.GeneratedAction
	if m := descriptionRegex.FindStringSubmatch(text); len(m) > 1 {
		action.Description = strings.TrimRight(m[1], " \t\r")
	}
	if m := codeBlockRegex.FindStringSubmatch(text); len(m) > 1 {
		action.Code = m[1]
	}
	action.Done = doneRegex.MatchString(text)
	return action
}
