package main

import (
	"runtime"
	"time"
)

type MemoryStats struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	HeapSysBytes   uint64 `json:"heapSysBytes"`
	NumGC          uint32 `json:"numGC"`
	Goroutines     int    `json:"goroutines"`
}

type Status struct {
	TotalRooms        int         `json:"totalRooms"`
	TotalClients      int         `json:"totalClients"`
	CodeEditorRooms   int         `json:"codeEditorRooms"`
	FileTreeRooms     int         `json:"fileTreeRooms"`
	GracePeriodRooms  int         `json:"gracePeriodRooms"`
	DocumentsInMemory int         `json:"documentsInMemory"`
	UptimeSeconds     float64     `json:"uptimeSeconds"`
	Memory            MemoryStats `json:"memoryStats"`
}

// Status reports an aggregate snapshot. Client totals count active
// members only, matching the admission capacity check.
func (h *Hub) Status() Status {
	h.mu.RLock()
	s := Status{
		TotalRooms:       len(h.rooms),
		GracePeriodRooms: len(h.graceTimers),
	}
	for _, room := range h.rooms {
		s.TotalClients += room.activeCount()
		switch room.info.Kind {
		case RoomCodeEditor:
			s.CodeEditorRooms++
		case RoomFileTree:
			s.FileTreeRooms++
		}
	}
	h.mu.RUnlock()

	s.DocumentsInMemory = h.docs.Count()
	s.UptimeSeconds = time.Since(h.startedAt).Seconds()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.Memory = MemoryStats{
		HeapAllocBytes: mem.HeapAlloc,
		HeapSysBytes:   mem.HeapSys,
		NumGC:          mem.NumGC,
		Goroutines:     runtime.NumGoroutine(),
	}
	return s
}
