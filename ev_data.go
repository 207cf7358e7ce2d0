package evtimer

type evData struct {
	fd     int
	events uint32
	eh     EvHandler
}

func (ed *evData) reset(fd int, events uint32, eh EvHandler) {
	ed.fd, ed.events, ed.eh = fd, events, eh
}

// evDataMap fd -> evData
//
// Small fds index an array, the others go to a map.
// Only accessed in the evPoll goroutine, so there is no lock.
type evDataMap struct {
	arrSize int
	arr     []evData

	sMap map[int]*evData
}

func newEvDataMap(arrSize int) *evDataMap {
	if arrSize < 1 {
		panic("evDataMap arrSize < 1")
	}
	mapPreSize := arrSize / 8
	if mapPreSize < 8 {
		mapPreSize = 8
	}
	dm := &evDataMap{
		arrSize: arrSize,
		arr:     make([]evData, arrSize),
		sMap:    make(map[int]*evData, mapPreSize),
	}
	for i := range dm.arr {
		dm.arr[i].fd = -1
	}
	return dm
}

// newOne return a slot for fd, the caller fills it and then calls store()
func (dm *evDataMap) newOne(fd int) *evData {
	if fd < dm.arrSize {
		return &(dm.arr[fd])
	}
	return &evData{}
}

func (dm *evDataMap) load(fd int) *evData {
	if fd < 0 {
		return nil
	}
	if fd < dm.arrSize {
		p := &(dm.arr[fd])
		if p.fd < 0 {
			return nil
		}
		return p
	}
	return dm.sMap[fd]
}

func (dm *evDataMap) store(fd int, v *evData) {
	if fd < dm.arrSize {
		return // newOne() returned the array element itself
	}
	dm.sMap[fd] = v
}

func (dm *evDataMap) del(fd int) {
	if fd < 0 {
		return
	}
	if fd < dm.arrSize {
		p := &(dm.arr[fd])
		p.fd, p.eh = -1, nil
		return
	}
	delete(dm.sMap, fd)
}

func (dm *evDataMap) size() (n int) {
	for i := range dm.arr {
		if dm.arr[i].fd >= 0 {
			n++
		}
	}
	return n + len(dm.sMap)
}
