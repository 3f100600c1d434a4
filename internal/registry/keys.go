package registry

import "fmt"

// Key layout, all under the configured prefix:
//
//	index:{name}            hash   logical index row
//	initlock:{name}         string create marker, SetNX guards first writer
//	version:{name}:{id}     hash   version row
//	seq:version:{name}      string per-index version id counter
//	seq:action              string global action id counter
//	action:{id}             hash   action row
//	action:{id}:log         list   action log lines
//	action:{id}:children    list   child action ids
//	actions                 list   all action ids, append order
//	lastupdate:{name}:{id}  string RFC3339 time of last completed update
func (r *Registry) indexKey(name string) string {
	return r.prefix + "index:" + name
}

func (r *Registry) initLockKey(name string) string {
	return r.prefix + "initlock:" + name
}

func (r *Registry) versionKey(index string, id int64) string {
	return fmt.Sprintf("%sversion:%s:%d", r.prefix, index, id)
}

func (r *Registry) versionSeqKey(index string) string {
	return r.prefix + "seq:version:" + index
}

func (r *Registry) actionSeqKey() string {
	return r.prefix + "seq:action"
}

func (r *Registry) actionKey(id int64) string {
	return fmt.Sprintf("%saction:%d", r.prefix, id)
}

func (r *Registry) actionLogKey(id int64) string {
	return fmt.Sprintf("%saction:%d:log", r.prefix, id)
}

func (r *Registry) actionChildrenKey(id int64) string {
	return fmt.Sprintf("%saction:%d:children", r.prefix, id)
}

func (r *Registry) actionsKey() string {
	return r.prefix + "actions"
}

func (r *Registry) lastUpdateKey(index string, versionID int64) string {
	return fmt.Sprintf("%slastupdate:%s:%d", r.prefix, index, versionID)
}
