package run

import (
	"encoding/json"
	"fmt"

	"github.com/John-Robertt/stockdex/internal/domain"
	"github.com/John-Robertt/stockdex/internal/infra/fsx"
)

// ReportFileName 是快照目录下抓取报告的文件名。
const ReportFileName = "report.json"

// SaveSnapshots 把报告中 status=ok 的页面正文（来自 FetchPages）写入 dir，并回填 item.Snapshot；
// 最后把报告本身写为 dir/report.json。
//
// 约束：
// - 不发起任何请求；status=ok 却缺少正文视为错误，不静默跳过
// - 文件名冲突时后写者追加序号，保证同一批次不互相覆盖
func SaveSnapshots(dir string, rr *domain.FetchReport, pages map[string][]byte) error {
	used := make(map[string]int, len(rr.Items))
	for i := range rr.Items {
		it := &rr.Items[i]
		if it.Status != domain.StatusOK {
			continue
		}
		body, ok := pages[it.URL]
		if !ok {
			return fmt.Errorf("缺少页面正文，无法写入快照：%s", it.URL)
		}

		base := fsx.SnapshotName(it.ResolvedURL)
		name := base
		if n := used[base]; n > 0 {
			name = fmt.Sprintf("%s-%d.html", base[:len(base)-len(".html")], n)
		}
		used[base]++

		if err := fsx.WriteFileAtomic(dir, name, body); err != nil {
			return fmt.Errorf("写入快照失败：%s：%w", it.URL, err)
		}
		it.Snapshot = name
	}

	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(dir, ReportFileName, append(b, '\n')); err != nil {
		return fmt.Errorf("写入 %s 失败：%w", ReportFileName, err)
	}
	return nil
}
