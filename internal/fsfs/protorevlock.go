package fsfs

import "os"

// ProtoRevCookie is returned by AcquireProtoRevLock and must be passed to
// Release to give up the lock. It owns both the
// advisory flock and the in-process being_written flag jointly, so the
// two are always released together.
type ProtoRevCookie struct {
	txnID  string
	lock   *FileLock
	reg    *Registry
	cookie string
}

// AcquireProtoRevLock acquires exclusive access to txnID's proto-rev file.
//
//  1. Under the registry's mutex, check-and-set being_written. If another
//     in-process caller already holds it, fail with KindRepBeingWritten
//     ("this process").
//  2. Attempt a non-blocking exclusive flock on the proto-rev lock file.
//     On contention, fail with KindRepBeingWritten ("another process") and
//     release the in-process flag acquired in step 1.
//  3. On success, open the proto-rev file for writing and seek to its end.
func AcquireProtoRevLock(reg *Registry, lockPath, protoRevPath, txnID string) (*ProtoRevCookie, *os.File, error) {
	if err := reg.TryMarkBeingWritten(txnID); err != nil {
		return nil, nil, err
	}

	lock, err := AcquireFileLock(lockPath)
	if err != nil {
		reg.ClearBeingWritten(txnID)
		return nil, nil, err
	}

	f, err := os.OpenFile(protoRevPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		lock.Unlock()
		reg.ClearBeingWritten(txnID)
		return nil, nil, newErr(KindCorrupt, "opening proto-rev file", err)
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		lock.Unlock()
		reg.ClearBeingWritten(txnID)
		return nil, nil, newErr(KindCorrupt, "seeking proto-rev file", err)
	}

	return &ProtoRevCookie{txnID: txnID, lock: lock, reg: reg, cookie: txnID}, f, nil
}

// Release closes the lock file handle and clears being_written. The
// caller must have already closed the proto-rev file handle itself.
func (c *ProtoRevCookie) Release() error {
	if c == nil {
		return nil
	}
	err := c.lock.Unlock()
	c.reg.ClearBeingWritten(c.txnID)
	return err
}
