package wal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於私鑰、機密檔、帳務 WAL
	FileModePrivate fs.FileMode = 0600
)

// ErrBroken 寫入失敗後無法把檔案還原，之後的寫入一律拒絕
var ErrBroken = errors.New("wal is broken")

// file WAL 需要的檔案操作，測試可替換
type file interface {
	io.ReadWriteSeeker
	io.Closer
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
}

// WAL 以 JSON Lines 格式追加寫入的 Write-Ahead Log
// 每筆紀錄寫入後立即 fsync，Write 回傳 nil 代表已落盤
// Write 回傳錯誤時檔案會還原到寫入前的大小，失敗的紀錄不會在重播時出現
type WAL struct {
	file file
	mu   sync.Mutex
	// 目前檔案中完整紀錄的筆數 (ReadAll 後才準確)
	records int
	// broken 非 nil 代表檔案狀態未知
	broken error
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return &WAL{file: file}, nil
}

// Write 寫入一筆資料並 fsync
// 先編碼到 buffer 再一次寫入，避免多次 write 造成交錯
func (w *WAL) Write(v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken != nil {
		return w.broken
	}

	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("stat wal: %w", err)
	}
	size := info.Size()

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return w.rollback(size, err)
	}
	if err := w.file.Sync(); err != nil {
		return w.rollback(size, err)
	}
	w.records++
	return nil
}

// rollback 把寫到一半或未確認落盤的紀錄截掉
// 截斷失敗時 WAL 標記為損壞
func (w *WAL) rollback(size int64, cause error) error {
	if err := w.file.Truncate(size); err != nil {
		w.broken = fmt.Errorf("%w: truncate to %d after %v: %v", ErrBroken, size, cause, err)
		return w.broken
	}
	if err := w.file.Sync(); err != nil {
		w.broken = fmt.Errorf("%w: sync after truncate: %v", ErrBroken, err)
		return w.broken
	}
	return cause
}

// Sync 強制刷入硬碟 (關鍵！)
func (w *WAL) Sync() error {
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}

// Records 回傳目前紀錄筆數
func (w *WAL) Records() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// ReadAll 讀取所有資料
// callback 是一個函式，接收一個 json.RawMessage
// 這樣可以避免一次將所有資料載入記憶體
//
// 若檔案結尾是寫到一半的紀錄 (程序在寫入途中被中止)，
// 會把檔案截斷到最後一筆完整紀錄，該筆視為從未寫入
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	var lastGood int64
	count := 0
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if terr := w.file.Truncate(lastGood); terr != nil {
					return fmt.Errorf("truncate torn wal tail: %w", terr)
				}
				break
			}
			return fmt.Errorf("decode wal record %d: %w", count+1, err)
		}
		if err := callback(raw); err != nil {
			return err
		}
		lastGood = decoder.InputOffset()
		count++
	}
	w.records = count
	return nil
}
