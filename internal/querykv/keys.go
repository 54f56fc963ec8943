package querykv

import "strconv"

// namespace is the reserved key prefix every persisted key lives under, so a
// Backend shared with unrelated data never collides with these names.
const namespace = "rcache:"

func valueKeyStr(k string) string     { return namespace + "value:" + k }
func updatedAtKeyStr(k string) string { return namespace + "updatedAt:" + k }
func refIDsKeyStr(k string) string    { return namespace + "refIds:" + k }
func refCountKeyStr(k string) string  { return namespace + "refCount:" + k }
func queueKeyStr(defID string) string { return namespace + "queue:" + defID }

func orphanRefsKeyStr(k string) string    { return namespace + "streamOrphanRefs:" + k }
func optimisticRefsKeyStr(k string) string { return namespace + "optimisticInsertRefs:" + k }

func u32Key(k uint32) string { return strconv.FormatUint(uint64(k), 10) }
