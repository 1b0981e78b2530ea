/*
Package escape implements the sanitizers applied to substituted values.

Each function accepts any value, coerces it to text with ToString and then
escapes or filters it for one output context: HTML text, HTML attributes, JS
strings and values, URIs, or CSS. Values wrapped in a SafeContent of the
matching kind are passed through (or only re-normalized) instead of being
escaped twice.

Filters never fail. A rejected value is replaced with InnocuousOutput, or
InnocuousURI in URI contexts, so untrusted data cannot break rendering but
remains visible in the output.

Funcs exposes every function under the pipe name templates use, for example
${url=>filterNormalizeUri}.
*/
package escape
