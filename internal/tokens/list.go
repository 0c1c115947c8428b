package tokens

import "encoding/json"

// pairList is the ordered representation used by backends that persist the
// whole collection as a single value (fiber.Storage, sessions).
type pairList []Pair

func decodePairList(raw []byte) (pairList, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var l pairList
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return l, nil
}

func (l pairList) encode() ([]byte, error) {
	return json.Marshal(l)
}

func (l pairList) index(name string) int {
	for i, p := range l {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (l pairList) set(name, secret string) pairList {
	if i := l.index(name); i >= 0 {
		l[i].Secret = secret
		return l
	}
	return append(l, Pair{Name: name, Secret: secret})
}

func (l pairList) get(name string) (string, bool) {
	if i := l.index(name); i >= 0 {
		return l[i].Secret, true
	}
	return "", false
}

func (l pairList) remove(name string) (pairList, bool) {
	i := l.index(name)
	if i < 0 {
		return l, false
	}
	return append(l[:i], l[i+1:]...), true
}

func (l pairList) last() (Pair, bool) {
	if len(l) == 0 {
		return Pair{}, false
	}
	return l[len(l)-1], true
}

func (l pairList) trim(limit int) (pairList, bool) {
	if limit <= 0 || len(l) <= limit {
		return l, false
	}
	return append(pairList(nil), l[len(l)-limit:]...), true
}
