package dashboard

import "crawler-dashboard/internal/models"

// nextSort cycles the same column asc, desc, asc... A different column starts at asc.
func nextSort(currentKey models.SortKey, currentOrder models.SortOrder, key models.SortKey) (models.SortKey, models.SortOrder) {
	if key != currentKey {
		return key, models.SortAsc
	}
	if currentOrder == models.SortAsc {
		return key, models.SortDesc
	}
	return key, models.SortAsc
}

type column struct {
	Key   models.SortKey
	Label string
}

var columns = []column{
	{Key: models.SortURL, Label: "URL"},
	{Key: models.SortTitle, Label: "Title"},
	{Key: models.SortStatus, Label: "Status"},
	{Key: models.SortHTMLVersion, Label: "HTML Version"},
	{Key: models.SortInternalLinks, Label: "Internal Links"},
	{Key: models.SortExternalLinks, Label: "External Links"},
	{Key: models.SortCreatedAt, Label: "Created"},
}
