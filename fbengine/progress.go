package fbengine

// ProgressFunc is called periodically during long-running sector fills
// (format_disk's FAT table/root directory/cluster zeroing, which can take
// a visible amount of time on a large disk), reporting sectors written so
// far against the total sectors the current step will write. It may be
// nil, in which case no progress is reported.
type ProgressFunc func(done, total uint32)
