// internal/generator/prompt.go
package generator

import (
	"strings"
)

// PromptInput is everything the prompt is composed from.
type PromptInput struct {
	Snapshot    string
	URL         string
	UserRequest string
	History     []string
}

const fence = "\x60\x60\x60"

// ComposePrompt renders the single user message sent to the generation
// service. The reply format it asks for is the one ParseReply understands.
func ComposePrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString(`Given this minified HTML of a webpage: "`)
	b.WriteString(in.Snapshot)
	b.WriteString(`", generate jQuery code to perform this user request: "`)
	b.WriteString(in.UserRequest)
	b.WriteString("\".\n\n")

	if in.URL != "" {
		b.WriteString("The page is currently at: ")
		b.WriteString(in.URL)
		b.WriteString("\n\n")
	}

	b.WriteString(`Analyze the HTML of the page carefully, only write code that targets elements on the current page (using the HTML given).
When using click, make sure to get the native click on the native element, not a simulated click.
This action is part of a loop that continues until the user request is satisfied. You can navigate to different pages, and the loop will continue.
The action does not have to be satisfied in one step, but the fewer steps the better.
Only write code that will be executed in the current page, not code that will be executed after navigation.

Coding rules:
- Never use query selectors based on index, because we remove some elements that aren't informative.

History of previous descriptions:

`)
	b.WriteString(fence + "history\n")
	b.WriteString(strings.Join(in.History, "\n"))
	b.WriteString("\n" + fence + "\n\n")

	b.WriteString(`If this is the first request, the previous history will be empty.

If according the history and the html, the user request is satisfied, you can set done to true.

Please provide your response in the following format:

Description: [A single line describing what the code does]
Code:
`)
	b.WriteString(fence + "javascript\n")
	b.WriteString("[Your generated jQuery code here]\n")
	b.WriteString(fence + "\n")
	b.WriteString("Done: [true/false]\n")
	return b.String()
}
