package persistence

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"panel-tracker/internal/types"
)

// 日志记录类型
const (
	EntryEvent = "EVENT" // 一次工作流事件，携带变更后的实例快照
	EntryReset = "RESET" // 注册表被清空，之前的记录在恢复时全部作废
)

// LogEntry 代表日志文件中的一条记录
type LogEntry struct {
	Type      string                   `json:"type"`
	Seq       uint64                   `json:"seq,omitempty"`
	EventType string                   `json:"event_type,omitempty"`
	PanelID   string                   `json:"panel_id,omitempty"`
	StationID types.StationID          `json:"station_id,omitempty"`
	Instance  *types.WorkflowInstance  `json:"instance,omitempty"`
	Outcome   *types.InspectionOutcome `json:"outcome,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// Journal 是面板工作流的审计日志 (追加写的 JSON Lines 文件)
// 它同时用于合规追溯和进程重启后的状态恢复
type Journal struct {
	file *os.File   // 日志文件句柄
	mu   sync.Mutex // 互斥锁，保证文件写入的原子性
}

// NewJournal 创建或打开一个日志文件
func NewJournal(path string) (*Journal, error) {
	// O_APPEND: 追加写入, O_CREATE: 文件不存在则创建, O_RDWR: 读写模式
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{file: file}, nil
}

// Append 写入一条记录并刷盘
func (j *Journal) Append(entry LogEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// 写入数据并在末尾添加换行符
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return err
	}
	// 确保数据被刷新到磁盘，防止数据丢失
	return j.file.Sync()
}

// Entries 读取全部记录，损坏的行被忽略
func (j *Journal) Entries() ([]LogEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// 将文件指针移动到开头以进行读取
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var entries []LogEntry
	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024) // 返工多次的面板历史较长
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// 恢复文件指针到末尾，以便后续追加写入
	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return entries, nil
}

// Recover 从日志中恢复每个面板的最新快照，并返回日志中最大的事件序号
// 记录按 Seq 重放 (没有序号的旧记录保持文件顺序)；
// 最后一次 RESET 之前的记录被丢弃，同一面板取 Revision 最大的快照
func (j *Journal) Recover() ([]types.WorkflowInstance, uint64, error) {
	entries, err := j.Entries()
	if err != nil {
		return nil, 0, err
	}
	// 事件由多个 goroutine 写入，文件顺序不等于发生顺序
	sort.SliceStable(entries, func(a, b int) bool { return entries[a].Seq < entries[b].Seq })

	var lastSeq uint64
	latest := make(map[string]*types.WorkflowInstance)
	for _, entry := range entries {
		if entry.Seq > lastSeq {
			lastSeq = entry.Seq
		}
		switch entry.Type {
		case EntryReset:
			latest = make(map[string]*types.WorkflowInstance)
		case EntryEvent:
			if entry.Instance == nil {
				continue
			}
			if cur, ok := latest[entry.Instance.PanelID]; !ok || entry.Instance.Revision > cur.Revision {
				latest[entry.Instance.PanelID] = entry.Instance
			}
		}
	}

	recovered := make([]types.WorkflowInstance, 0, len(latest))
	for _, inst := range latest {
		recovered = append(recovered, *inst)
	}
	sort.Slice(recovered, func(a, b int) bool { return recovered[a].PanelID < recovered[b].PanelID })
	return recovered, lastSeq, nil
}

// Close 关闭日志文件
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
