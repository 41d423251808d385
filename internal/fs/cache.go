package fs

// dentry cache: a bounded (parent_ino, name) -> ino map. It is not a true
// LRU — when it fills up it is cleared wholesale and allowed to refill,
// which is cheap to reason about and good enough given typical working
// sets are far smaller than the cap.

func (f *FS) cacheLookup(parent int64, name string) (int64, bool) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	ino, ok := f.cache[dentryKey{parent, name}]
	return ino, ok
}

func (f *FS) cacheStore(parent int64, name string, ino int64) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	if len(f.cache) >= f.cacheCap {
		f.cache = make(map[dentryKey]int64, f.cacheCap)
	}
	f.cache[dentryKey{parent, name}] = ino
}

func (f *FS) cacheInvalidate(parent int64, name string) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	delete(f.cache, dentryKey{parent, name})
}

// cacheInvalidateAll is used after operations that can move large numbers
// of dentries around (rename of a directory, remove_tree) where point
// invalidation is harder to get right than a full clear.
func (f *FS) cacheInvalidateAll() {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.cache = make(map[dentryKey]int64, f.cacheCap)
}
