package sstable

// Iterator walks a segment block by block.
type Iterator struct {
	r     *Reader
	block int
	cur   *BlockIterator
	err   error
}

func (it *Iterator) Next() bool {
	for it.err == nil {
		if it.cur != nil && it.cur.Next() {
			return true
		}
		if it.cur != nil && it.cur.Error() != nil {
			it.err = it.cur.Error()
			return false
		}
		if it.block >= it.r.index.Len() {
			return false
		}
		blk, err := it.r.readBlock(it.r.index.Entry(it.block))
		if err != nil {
			it.err = err
			return false
		}
		it.block++
		it.cur = blk.NewIterator()
	}
	return false
}

func (it *Iterator) Key() []byte   { return it.cur.Key() }
func (it *Iterator) Value() []byte { return it.cur.Value() }
func (it *Iterator) Seq() uint64   { return it.cur.Seq() }
func (it *Iterator) Error() error  { return it.err }

// Close releases the underlying reader.
func (it *Iterator) Close() error { return it.r.Close() }
