package lead

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
)

type fakeDirectory struct {
	mu      sync.Mutex
	chats   map[string]ChatRef
	deleted []string
	created []ChatRef
}

func newFakeDirectory(chats ...ChatRef) *fakeDirectory {
	d := &fakeDirectory{chats: make(map[string]ChatRef)}
	for _, c := range chats {
		d.chats[c.ID] = c
	}
	return d
}

func (d *fakeDirectory) Get(_ context.Context, id string) (ChatRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.chats[id]; ok {
		return c, nil
	}
	return ChatRef{}, ErrChatNotFound
}

func (d *fakeDirectory) Create(_ context.Context, chat ChatRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.chats[chat.ID]; ok {
		return ErrDuplicateChat
	}
	d.chats[chat.ID] = chat
	d.created = append(d.created, chat)
	return nil
}

func (d *fakeDirectory) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.chats, id)
	d.deleted = append(d.deleted, id)
	return nil
}

func (d *fakeDirectory) Filter(_ context.Context, limit int) ([]ChatRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ChatRef, 0, len(d.chats))
	for _, c := range d.chats {
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type sentPayload struct {
	chatID  int64
	kind    string
	text    string
	batch   []Attachment
	caption string
}

// fakeTransport records sends and replays per-chat scripted results.
// Without a script every send is delivered with an incrementing id.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentPayload
	scripts map[int64][]SendResult
	nextID  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{scripts: make(map[int64][]SendResult)}
}

func (f *fakeTransport) script(chatID int64, results ...SendResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[chatID] = append(f.scripts[chatID], results...)
}

func (f *fakeTransport) result(chatID int64) SendResult {
	if queue := f.scripts[chatID]; len(queue) > 0 {
		res := queue[0]
		f.scripts[chatID] = queue[1:]
		return res
	}
	f.nextID++
	return Delivered("msg-" + strconv.Itoa(f.nextID))
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string) SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayload{chatID: chatID, kind: "text", text: text})
	return f.result(chatID)
}

func (f *fakeTransport) SendVoice(_ context.Context, chatID int64, voice Attachment, caption string) SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayload{chatID: chatID, kind: "voice", batch: []Attachment{voice}, caption: caption})
	return f.result(chatID)
}

func (f *fakeTransport) SendMediaGroup(_ context.Context, chatID int64, batch []Attachment, caption string) SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayload{chatID: chatID, kind: "media_group", batch: batch, caption: caption})
	return f.result(chatID)
}

type fakeMessages struct {
	mu      sync.Mutex
	records []DeliveryRecord
	err     error
}

func (f *fakeMessages) CreateMany(_ context.Context, records []DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, records...)
	return nil
}

type fakeObject struct {
	data []byte
	info ObjectInfo
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	getErr  map[string]error
	delErr  map[string]error
	deleted []string
	fetched []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		objects: make(map[string]fakeObject),
		getErr:  make(map[string]error),
		delErr:  make(map[string]error),
	}
}

func (f *fakeObjects) put(key string, data string, info ObjectInfo) {
	f.objects[key] = fakeObject{data: []byte(data), info: info}
}

func (f *fakeObjects) GetObject(_ context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.getErr[key]; ok {
		return nil, ObjectInfo{}, err
	}
	obj, ok := f.objects[key]
	if !ok {
		return nil, ObjectInfo{}, errors.New("no such key")
	}
	f.fetched = append(f.fetched, key)
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.delErr[key]; ok {
		return err
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}
