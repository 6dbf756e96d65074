// Package keys provides idsite.KeyResolver implementations backed by files.
//
// An API key is stored the way the ID Site console downloads it, as an
// apiKey.properties file:
//
//	apiKey.id = 144JVZINOF5EBNCMG9EXAMPLE
//	apiKey.secret = lWxOiKqKPNwJmSldbiSkEbkNjgh2uRSNAb+AEXAMPLE
//
// FileResolver loads that file and, once Watch is called, reloads it on change.
// A reload that fails keeps serving the previous key.
package keys
