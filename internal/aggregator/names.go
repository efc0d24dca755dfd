package aggregator

import "strings"

// nameSeparator joins the upstream server name and its tool name into
// the aggregated catalog name.
const nameSeparator = "__"

// AggregatedName builds the downstream-visible name for an upstream tool.
func AggregatedName(serverName, toolName string) string {
	return serverName + nameSeparator + toolName
}

// SplitName decomposes an aggregated name at the leftmost separator.
// Tool names may themselves contain the separator; server names may not.
func SplitName(name string) (serverName, toolName string, ok bool) {
	idx := strings.Index(name, nameSeparator)
	if idx <= 0 || idx+len(nameSeparator) >= len(name) {
		return "", "", false
	}
	return name[:idx], name[idx+len(nameSeparator):], true
}
