// Package composer turns free-text operator input into backend commands.
//
// A Composer owns the input buffer, the autocomplete suggestions for the
// destination being typed, and the conversation log. Dispatch substitutes
// destination names with their ids, sends the command with the current
// session handle, and appends the reply, or an error description, as a
// system turn.
package composer
