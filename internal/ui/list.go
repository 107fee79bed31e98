package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/crawlctl/internal/formatter"
	"github.com/desertthunder/crawlctl/internal/models"
)

var (
	_ list.Item = taskItem{}
	_ list.Item = crawlerItem{}
)

// taskItem wraps [models.Task] to implement [list.Item].
type taskItem struct {
	task models.Task
}

func (i taskItem) FilterValue() string { return i.task.CrawlerType + " " + i.task.ID }
func (i taskItem) Title() string {
	return fmt.Sprintf("%s  %s", i.task.CrawlerType, styles.ForStatus(i.task.Status).Render(string(i.task.Status)))
}
func (i taskItem) Description() string {
	desc := fmt.Sprintf("%s %3d%% • %s", formatter.ProgressBar(i.task.Progress, 20), i.task.Progress, i.task.ID)
	if i.task.Error != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.task.Error)
	}
	return desc
}

// crawlerItem wraps [models.CrawlerInfo] to implement [list.Item].
type crawlerItem struct {
	crawler models.CrawlerInfo
}

func (i crawlerItem) FilterValue() string { return i.crawler.Name }
func (i crawlerItem) Title() string {
	if i.crawler.DisplayName == "" {
		return i.crawler.Name
	}
	return fmt.Sprintf("%s (%s)", i.crawler.DisplayName, i.crawler.Name)
}
func (i crawlerItem) Description() string {
	desc := i.crawler.Description
	if len(i.crawler.Parameters) > 0 {
		desc = fmt.Sprintf("%s • requires %s", desc, strings.Join(i.crawler.Parameters, ", "))
	}
	return desc
}

func taskItems(tasks []models.Task) []list.Item {
	items := make([]list.Item, len(tasks))
	for i, t := range tasks {
		items[i] = taskItem{task: t}
	}
	return items
}

func crawlerItems(crawlers []models.CrawlerInfo) []list.Item {
	items := make([]list.Item, 0, len(crawlers))
	for _, c := range crawlers {
		if c.Active() {
			items = append(items, crawlerItem{crawler: c})
		}
	}
	return items
}
