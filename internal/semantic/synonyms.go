package semantic

// codeSynonyms maps natural-language query terms to code vocabulary. The
// keyword index matches exact tokens, so a query like "read JSON data" never
// reaches a method named deserializeJSONStream without this bridge. Entries
// map user vocabulary toward code vocabulary, most common equivalents first;
// expansion caps how many are taken per term.
var codeSynonyms = map[string][]string{
	// Declarations across languages.
	"function":  {"func", "method", "fn", "def"},
	"method":    {"func", "fn", "function"},
	"func":      {"function", "method", "def"},
	"class":     {"type", "struct", "interface"},
	"type":      {"class", "struct", "interface"},
	"struct":    {"class", "type", "structure"},
	"interface": {"protocol", "trait", "contract"},

	// Error handling.
	"error":     {"err", "exception", "fail"},
	"err":       {"error", "failure"},
	"exception": {"error", "err", "panic"},
	"handler":   {"handle", "callback"},
	"retry":     {"attempt", "backoff"},

	// Common abbreviations.
	"request":  {"req", "http"},
	"response": {"resp", "reply"},
	"context":  {"ctx"},
	"ctx":      {"context"},
	"config":   {"cfg", "configuration", "settings"},
	"options":  {"opts", "config"},
	"database": {"db", "store", "storage"},
	"db":       {"database", "store"},

	// Retrieval domain vocabulary.
	"search":    {"find", "query", "lookup"},
	"find":      {"search", "get", "lookup"},
	"index":     {"indexer", "indexing"},
	"embedding": {"embed", "vector", "embedder"},
	"vector":    {"embedding", "semantic"},
	"chunk":     {"segment", "block"},
	"parse":     {"parser", "parsing"},
	"ast":       {"tree", "syntax"},
	"symbol":    {"declaration", "identifier"},
	"caller":    {"call", "invocation"},

	// Lifecycle and CRUD verbs.
	"create": {"new", "make", "init"},
	"new":    {"create", "make"},
	"init":   {"initialize", "setup"},
	"get":    {"fetch", "retrieve", "read"},
	"set":    {"put", "assign", "write"},
	"read":   {"load", "get"},
	"write":  {"save", "store"},
	"load":   {"read", "fetch"},
	"save":   {"write", "persist"},
	"close":  {"shutdown", "stop"},
	"start":  {"begin", "run", "launch"},
	"stop":   {"halt", "close", "shutdown"},
	"delete": {"remove", "drop"},
	"update": {"modify", "change"},

	// Concurrency.
	"goroutine": {"concurrent", "async"},
	"channel":   {"chan", "pipe"},
	"mutex":     {"lock", "sync"},
	"lock":      {"mutex", "sync"},

	// Files and IO.
	"file":      {"path", "filesystem"},
	"path":      {"file", "filepath", "directory"},
	"directory": {"dir", "folder"},
	"reader":    {"read", "stream"},
	"writer":    {"write", "stream"},

	// Logging.
	"log":   {"logger", "logging", "slog"},
	"debug": {"trace", "verbose"},
	"warn":  {"warning", "alert"},

	// Question vocabulary to code vocabulary.
	"where":     {"location", "file", "path"},
	"defined":   {"definition", "declare"},
	"called":    {"call", "invoke"},
	"returns":   {"return", "result"},
	"parameter": {"param", "arg", "argument"},
	"argument":  {"arg", "param"},
}
