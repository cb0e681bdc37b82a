package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleCN = `电子发票（普通发票）
发票号码：24312000000123456789
开票日期：2024年1月5日
购买方 名称：北京示例科技有限公司 纳税人识别号：91110108MA01C8Y23X
销售方 名称：上海供应商贸易有限公司 纳税人识别号：91310115MA1K4P9T0Q
*信息技术服务*软件开发服务
价税合计（小写）：¥10,600.00
税额：600.00`

func TestExtractChineseInvoice(t *testing.T) {
	fields := NewFieldExtractor().Extract(sampleCN, nil)

	assert.Equal(t, "24312000000123456789", fields["invoice_number"])
	assert.Equal(t, "2024-01-05", fields["issue_date"])
	assert.Equal(t, "10600.00", fields["total_with_tax"])
	assert.Equal(t, "600.00", fields["tax_amount"])
	assert.Equal(t, "北京示例科技有限公司", fields["buyer_name"])
	assert.Equal(t, "91110108MA01C8Y23X", fields["buyer_tax_id"])
	assert.Equal(t, "上海供应商贸易有限公司", fields["seller_name"])
	assert.Equal(t, "91310115MA1K4P9T0Q", fields["seller_tax_id"])
	assert.Equal(t, "软件开发服务", fields["item_name"])
}

func TestExtractEnglishInvoice(t *testing.T) {
	text := `INVOICE
Invoice No: INV-2024-0042
Date: 2024/03/09
Subtotal: $1,000.00
Tax: $80.00
Total Due: $1,080.00`
	fields := NewFieldExtractor().Extract(text, nil)

	assert.Equal(t, "INV-2024-0042", fields["invoice_number"])
	assert.Equal(t, "2024-03-09", fields["issue_date"])
	assert.Equal(t, "1080.00", fields["total_with_tax"])
	assert.Equal(t, "1000.00", fields["amount"])
	assert.Equal(t, "80.00", fields["tax_amount"])
}

func TestClassifyPartiesByNearestLabel(t *testing.T) {
	// Labels and values recognized as separate spans with no inline label
	// text; attribution must follow geometry.
	spans := []Span{
		{Text: "购买方", MinX: 10, MinY: 100, MaxX: 60, MaxY: 120},
		{Text: "名称：甲方测试有限公司", MinX: 70, MinY: 100, MaxX: 300, MaxY: 120},
		{Text: "91110108MA01C8Y23X", MinX: 70, MinY: 130, MaxX: 300, MaxY: 150},
		{Text: "销售方", MinX: 10, MinY: 400, MaxX: 60, MaxY: 420},
		{Text: "名称：乙方商贸有限公司", MinX: 70, MinY: 400, MaxX: 300, MaxY: 420},
		{Text: "91310115MA1K4P9T0Q", MinX: 70, MinY: 430, MaxX: 300, MaxY: 450},
	}
	fields := NewFieldExtractor().Extract("发票号码：123", spans)

	assert.Equal(t, "甲方测试有限公司", fields["buyer_name"])
	assert.Equal(t, "乙方商贸有限公司", fields["seller_name"])
	assert.Equal(t, "91110108MA01C8Y23X", fields["buyer_tax_id"])
	assert.Equal(t, "91310115MA1K4P9T0Q", fields["seller_tax_id"])
}

func TestClassifyDoesNotOverrideInlineMatches(t *testing.T) {
	text := `发票
购买方 名称：真实买方有限公司 纳税人识别号：91110108MA01C8Y23X
销售方 名称：真实卖方有限公司 纳税人识别号：91310115MA1K4P9T0Q`
	spans := []Span{
		{Text: "购买方", MinX: 0, MinY: 0, MaxX: 10, MaxY: 10},
		{Text: "别的公司有限公司", MinX: 0, MinY: 12, MaxX: 10, MaxY: 22},
	}
	fields := NewFieldExtractor().Extract(text, spans)
	assert.Equal(t, "真实买方有限公司", fields["buyer_name"])
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2024-01-05", normalizeDate("2024年1月5日"))
	assert.Equal(t, "2024-12-31", normalizeDate("2024-12-31"))
	assert.Equal(t, "2024-03-09", normalizeDate("2024/3/9"))
	assert.Equal(t, "unparsed", normalizeDate("unparsed"))
}

func TestParseTSV(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t10\t20\t30\t12\t96.5\tHello\n" +
		"5\t1\t1\t1\t1\t2\t45\t20\t40\t12\t92.0\tWorld\n" +
		"5\t1\t1\t1\t2\t1\t10\t40\t50\t12\t88.0\tNext\n" +
		"5\t1\t1\t1\t2\t2\t70\t40\t10\t12\t-1\t \n"
	spans := parseTSV(tsv)

	assert.Len(t, spans, 2)
	assert.Equal(t, "Hello World", spans[0].Text)
	assert.Equal(t, 10.0, spans[0].MinX)
	assert.Equal(t, 85.0, spans[0].MaxX)
	assert.Equal(t, 32.0, spans[0].MaxY)
	assert.Equal(t, "Next", spans[1].Text)
}
