// Package terminal implements the interactive command-line front-end of
// warden.
//
// A Terminal drives one session through the shared agent.Runner. Assistant
// text is printed as it arrives; tool activity is shown according to the
// configured verbosity:
//
//   - none: no tool activity is displayed
//   - info: tool names, failures and rejections are displayed
//   - all: tool names, arguments and results are displayed
//
// When a turn suspends for decisions, each pending action is shown in a
// panel and the user answers yes, no, always, risk-based or decide later.
// Deciding later pauses the turn; /resume offers the actions again, and so
// does the next prompt.
//
// # Usage
//
//	term := terminal.New(runner, sess, os.Stdin, os.Stdout, terminal.WithVerbosity(v))
//	err := term.Run(ctx, initialPrompt)
//
// # Commands
//
//   - /confirm [mode]: show or change the confirmation mode
//   - /resume: review actions left for later
//   - /help: list commands
//   - /quit, /exit: end the session
package terminal
