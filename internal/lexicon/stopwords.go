// Package lexicon holds word lists shared by the text-processing packages.
package lexicon

import "strings"

var stopwordList = strings.Fields(`a an the and or but if then else for to of in on at by with as is are
	was were be been being it its this that these those from up down over under again further
	than so such into about between through during before after above below out off own same
	too very can will just should now you your we our i me my he she they them his her their`)

// Stopwords returns a fresh set of common English function words.
func Stopwords() map[string]struct{} {
	m := make(map[string]struct{}, len(stopwordList))
	for _, w := range stopwordList {
		m[w] = struct{}{}
	}
	return m
}
