package sftp

// Request methods the pkg/sftp request server hands to the handlers.
// The relay view serves the read side only, everything else is refused.
const (
	MethodGet      = "Get"
	MethodPut      = "Put"
	MethodOpen     = "Open"
	MethodList     = "List"
	MethodStat     = "Stat"
	MethodLstat    = "Lstat"
	MethodReadlink = "Readlink"
	MethodSetstat  = "Setstat"
	MethodRename   = "Rename"
	MethodRmdir    = "Rmdir"
	MethodMkdir    = "Mkdir"
	MethodRemove   = "Remove"
	MethodLink     = "Link"
	MethodSymlink  = "Symlink"
)
